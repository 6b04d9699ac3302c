package receiptfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidReceipt wraps every validation failure
var ErrInvalidReceipt = errors.New("invalid receipt file")

var validate = validator.New()

// Parse decodes and validates a .receipt document
func Parse(data []byte) (*Receipt, error) {
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse receipt: %w", err)
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ParseFile reads and parses a .receipt file
func ParseFile(path string) (*Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt file: %w", err)
	}
	return Parse(data)
}

// Validate checks field values and that every variable, array and array
// field a command references is declared
func Validate(r *Receipt) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReceipt, err)
	}

	var errs []error

	variables := make(map[string]bool)
	for i, v := range r.Variables {
		if variables[v.Let] {
			errs = append(errs, fmt.Errorf("variable[%d]: duplicate variable name '%s'", i, v.Let))
		}
		variables[v.Let] = true
	}

	arrays := make(map[string]bool)
	for i, a := range r.VariableArrays {
		if arrays[a.Name] {
			errs = append(errs, fmt.Errorf("variableArray[%d]: duplicate array name '%s'", i, a.Name))
		}
		arrays[a.Name] = true

		fields := make(map[string]bool)
		for j, f := range a.Schema {
			if fields[f.Field] {
				errs = append(errs, fmt.Errorf("variableArray[%d] '%s' field[%d]: duplicate field name '%s'", i, a.Name, j, f.Field))
			}
			fields[f.Field] = true
		}
	}

	for i := range r.Commands {
		if err := validateCommand(r, &r.Commands[i], ""); err != nil {
			errs = append(errs, fmt.Errorf("command[%d]: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidReceipt, errors.Join(errs...))
	}
	return nil
}

func validateCommand(r *Receipt, cmd *Command, binding string) error {
	if cmd.ArrayBinding != "" {
		if binding != "" {
			return fmt.Errorf("nested arrayBinding '%s'", cmd.ArrayBinding)
		}
		if _, ok := r.array(cmd.ArrayBinding); !ok {
			return fmt.Errorf("unknown array '%s' in arrayBinding", cmd.ArrayBinding)
		}
		binding = cmd.ArrayBinding
	}

	switch cmd.Type {
	case CommandText, CommandBarcode, CommandQRCode:
		return validateSource(r, cmd, binding)
	case CommandItem:
		if len(cmd.LeftSide) == 0 {
			return errors.New("item command requires left_side")
		}
		for _, side := range [][]Command{cmd.LeftSide, cmd.RightSide} {
			for j := range side {
				if side[j].Type != CommandText {
					return fmt.Errorf("item side[%d]: only text commands are allowed", j)
				}
				if err := validateCommand(r, &side[j], binding); err != nil {
					return fmt.Errorf("item side[%d]: %w", j, err)
				}
			}
		}
	}
	return nil
}

func validateSource(r *Receipt, cmd *Command, binding string) error {
	count := 0
	if cmd.Value != "" {
		count++
	}
	if cmd.DynamicValue != "" {
		count++
		if _, ok := r.variable(cmd.DynamicValue); !ok {
			return fmt.Errorf("unknown variable '%s' in dynamicValue", cmd.DynamicValue)
		}
	}
	if cmd.ArrayField != "" {
		count++
		if binding == "" {
			return fmt.Errorf("arrayField '%s' used without arrayBinding", cmd.ArrayField)
		}
		array, _ := r.array(binding)
		if _, ok := array.field(cmd.ArrayField); !ok {
			return fmt.Errorf("unknown field '%s' in array '%s'", cmd.ArrayField, binding)
		}
	}

	switch {
	case count == 0:
		return fmt.Errorf("%s command must have value, dynamicValue, or arrayField", cmd.Type)
	case count > 1:
		return fmt.Errorf("%s command cannot have multiple of: value, dynamicValue, arrayField", cmd.Type)
	}
	return nil
}
