package reconciliation

import (
	"io"
	"os"
)

func writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp("", "statement-*.csv")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
