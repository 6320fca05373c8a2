package whatsapp

import (
	"io"

	"github.com/mdp/qrterminal/v3"
)

// RenderQR draws a pairing code as a half-block QR code so it fits a normal terminal.
func RenderQR(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
