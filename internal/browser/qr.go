package browser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
)

// QRPresenter shows a login QR payload to the operator: as a PNG file in Dir
// and as half-block art on Out.
type QRPresenter struct {
	Dir string
	Out io.Writer
}

// Present renders code and returns the PNG path ("" when Dir is unset).
func (q QRPresenter) Present(code string) (string, error) {
	if q.Out != nil {
		fmt.Fprintln(q.Out, "Scan this QR code with WhatsApp > Linked devices:")
		qrterminal.GenerateHalfBlock(code, qrterminal.L, q.Out)
	}
	if q.Dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(q.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create QR directory: %w", err)
	}
	path := filepath.Join(q.Dir, fmt.Sprintf("qr_%s.png", uuid.New().String()))
	if err := qrcode.WriteFile(code, qrcode.Medium, 512, path); err != nil {
		return "", fmt.Errorf("failed to generate QR image: %w", err)
	}
	return path, nil
}
