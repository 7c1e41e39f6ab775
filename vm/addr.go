package vm

import "encoding/hex"

// SenderAddr returns ctx.Tx.Sender as the lowercase hex address State keys
// accounts by.
func SenderAddr(ctx *Context) string {
	return hex.EncodeToString(ctx.Tx.Sender)
}

// ReceiverAddr returns ctx.Tx.Receiver as a lowercase hex address.
func ReceiverAddr(ctx *Context) string {
	return hex.EncodeToString(ctx.Tx.Receiver)
}
