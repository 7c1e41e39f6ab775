package trie

import "testing"

func TestEmptyRoot(t *testing.T) {
	tr := New()
	if tr.Root() != "" {
		t.Fatalf("expected empty root, got %q", tr.Root())
	}
}

func TestInsertGet(t *testing.T) {
	tr := New()
	tr.Insert([]byte("alice"), []byte("balance:100"))
	tr.Insert([]byte("bob"), []byte("balance:50"))

	v, ok := tr.Get([]byte("alice"))
	if !ok || string(v) != "balance:100" {
		t.Fatalf("alice lookup = %q, %v", v, ok)
	}
	v, ok = tr.Get([]byte("bob"))
	if !ok || string(v) != "balance:50" {
		t.Fatalf("bob lookup = %q, %v", v, ok)
	}
	if _, ok := tr.Get([]byte("carol")); ok {
		t.Fatalf("expected carol to be absent")
	}
}

func TestUpdateExistingKey(t *testing.T) {
	tr := New()
	tr.Insert([]byte("alice"), []byte("1"))
	r1 := tr.Root()
	tr.Insert([]byte("alice"), []byte("2"))
	r2 := tr.Root()
	if r1 == r2 {
		t.Fatalf("root should change after update")
	}
	v, _ := tr.Get([]byte("alice"))
	if string(v) != "2" {
		t.Fatalf("expected updated value, got %q", v)
	}
}

func TestRootPermutationInvariant(t *testing.T) {
	keys := [][]byte{[]byte("alice"), []byte("bob"), []byte("carol"), []byte("dave")}
	values := [][]byte{[]byte("1"), []byte("2"), []byte("3"), []byte("4")}

	t1 := New()
	for i := range keys {
		t1.Insert(keys[i], values[i])
	}

	order := []int{3, 1, 0, 2}
	t2 := New()
	for _, i := range order {
		t2.Insert(keys[i], values[i])
	}

	if t1.Root() != t2.Root() {
		t.Fatalf("root depends on insertion order: %s vs %s", t1.Root(), t2.Root())
	}
}

func TestSharedPrefixKeys(t *testing.T) {
	tr := New()
	tr.Insert([]byte{0xab, 0xcd}, []byte("x"))
	tr.Insert([]byte{0xab, 0xce}, []byte("y"))
	tr.Insert([]byte{0xab}, []byte("z"))

	for _, tc := range []struct {
		key []byte
		val string
	}{
		{[]byte{0xab, 0xcd}, "x"},
		{[]byte{0xab, 0xce}, "y"},
		{[]byte{0xab}, "z"},
	} {
		v, ok := tr.Get(tc.key)
		if !ok || string(v) != tc.val {
			t.Fatalf("key %v: got %q,%v want %q", tc.key, v, ok, tc.val)
		}
	}
}
