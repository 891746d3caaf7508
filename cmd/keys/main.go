package keys

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"marketmaker/src/security"
	"strings"

	logger "github.com/sirupsen/logrus"
)

// Keys turns plain API credentials into enc: values for the env file.
type Keys struct {
	In  io.Reader
	Out io.Writer
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Paste the Binance API key and secret, one per line.")
	_, _ = fmt.Fprintln(w, "The output lines can be copied into the .env file as is.")
	_, _ = fmt.Fprintln(w)
}

func (k *Keys) Start() error {
	config := GetConfig()
	if config.ShowUsage {
		printUsage(k.Out)
	}

	reader := bufio.NewScanner(k.In)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	values := make([]string, 0, 2)
	for len(values) < 2 && reader.Scan() {
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}
		values = append(values, line)
	}
	if err := reader.Err(); err != nil {
		return err
	}
	if len(values) < 2 {
		return errors.New("expected api key and api secret")
	}

	lines, err := EncryptCredentials(values[0], values[1])
	if err != nil {
		logger.WithError(err).Error("Failed to encrypt credentials")
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(k.Out, line)
	}
	return nil
}

// EncryptCredentials returns env assignments for the encrypted key and secret.
func EncryptCredentials(apiKey, apiSecret string) ([]string, error) {
	encryptKey, err := security.EncryptString(apiKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt key: %w", err)
	}
	encryptSecret, err := security.EncryptString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}
	return []string{
		"BINANCE_API_KEY=" + security.EncryptedPrefix + encryptKey,
		"BINANCE_API_SECRET=" + security.EncryptedPrefix + encryptSecret,
	}, nil
}
