package utils

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/batchpay/types"
	"gopkg.in/yaml.v3"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// ParseConfig parses a YAML (or JSON) document into a Config, applies
// defaults and validates it.
func ParseConfig(data []byte) (*types.Config, error) {
	var cfg types.Config

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, types.WrapError(types.CodeConfig, err, "failed to parse config")
	}

	cfg.ApplyDefaults()

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.CodeConfig, err, "failed to read config %s", path)
	}
	return ParseConfig(data)
}

// RecipientFormat is the encoding of a recipient roster file.
type RecipientFormat string

const (
	FormatJSON RecipientFormat = "json"
	FormatCSV  RecipientFormat = "csv"
)

// FormatFromPath guesses the roster format from the file extension.
func FormatFromPath(path string) RecipientFormat {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatJSON
}

// ParseRecipients decodes a roster. CSV input must have a header row with
// name, address and amount columns in any order.
func ParseRecipients(data []byte, format RecipientFormat) ([]types.Recipient, error) {
	switch format {
	case FormatJSON:
		var recipients []types.Recipient
		if err := json.Unmarshal(data, &recipients); err != nil {
			return nil, types.WrapError(types.CodeValidation, err, "failed to parse recipients")
		}
		return recipients, nil
	case FormatCSV:
		return parseRecipientsCSV(bytes.NewReader(data))
	default:
		return nil, types.NewError(types.CodeValidation, "unsupported recipient format %q", format)
	}
}

// LoadRecipients reads a roster file, picking the format from its extension.
func LoadRecipients(path string) ([]types.Recipient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.CodeValidation, err, "failed to read recipients %s", path)
	}
	return ParseRecipients(data, FormatFromPath(path))
}

func parseRecipientsCSV(r io.Reader) ([]types.Recipient, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, types.WrapError(types.CodeValidation, err, "failed to read csv header")
	}

	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{"name", "address", "amount"} {
		if _, ok := cols[want]; !ok {
			return nil, types.NewError(types.CodeValidation, "csv header is missing %q column", want)
		}
	}

	var recipients []types.Recipient
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, types.WrapError(types.CodeValidation, err, "csv line %d", line)
		}
		recipients = append(recipients, types.Recipient{
			Name:    strings.TrimSpace(rec[cols["name"]]),
			Address: strings.TrimSpace(rec[cols["address"]]),
			Amount:  strings.TrimSpace(rec[cols["amount"]]),
		})
	}
	return recipients, nil
}

// NormalizeJSON formats JSON with consistent indentation
func NormalizeJSON(data interface{}) ([]byte, error) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return out, nil
}
