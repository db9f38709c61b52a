package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// paramFlags — флаги параметров run, общие для run start и trigger run.
type paramFlags struct {
	pairs   []string
	rawJSON string
}

func (f *paramFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.pairs, "param", "p", nil, "Param as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&f.rawJSON, "params-json", "", "Params as a JSON object")
}

// build собирает параметры: сначала --params-json, поверх него --param.
//
// Значения --param передаются строками, сервер приводит их к типу
// поля схемы ("42" → int, "true" → bool).
func (f *paramFlags) build() (map[string]any, error) {
	if f.rawJSON == "" && len(f.pairs) == 0 {
		return nil, nil
	}

	params := make(map[string]any)
	if f.rawJSON != "" {
		if err := json.Unmarshal([]byte(f.rawJSON), &params); err != nil {
			return nil, fmt.Errorf("invalid --params-json: %w", err)
		}
	}

	for _, kv := range f.pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param format %q, expected KEY=VALUE", kv)
		}
		params[key] = value
	}

	return params, nil
}
