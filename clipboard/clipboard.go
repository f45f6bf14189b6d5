// Package clipboard copies text to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"

	cb "github.com/atotto/clipboard"
)

var ErrUnsupported = errors.New("clipboard unsupported: install xclip, xsel or wl-clipboard")

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	if err := cb.WriteAll(text); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}
