package receiptfile

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/thereceipt/silent-print/internal/layout"
	"github.com/thereceipt/silent-print/internal/raster"
)

const (
	defaultTextSize = 12
	lineHeight      = 14
)

// Data fills a template. Missing values fall back to the declared defaults.
type Data struct {
	Variables map[string]any              `json:"variables"`
	Arrays    map[string][]map[string]any `json:"arrays"`
}

// LoadData reads template data from a JSON file
func LoadData(path string) (Data, error) {
	var d Data
	raw, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("failed to read receipt data: %w", err)
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("failed to parse receipt data: %w", err)
	}
	return d, nil
}

// Render fills r with data and lays it out as a document
func Render(r *Receipt, data Data) (*raster.Document, error) {
	doc := raster.NewDocument()
	for i := range r.Commands {
		if err := renderCommand(doc, r, &r.Commands[i], data); err != nil {
			return nil, fmt.Errorf("command[%d]: %w", i, err)
		}
	}
	return doc, nil
}

// Target renders r and returns it as a capture target at the template's
// printable width
func Target(r *Receipt, data Data) (raster.Target, error) {
	doc, err := Render(r, data)
	if err != nil {
		return nil, err
	}
	return raster.NewDocumentTarget(doc, layout.CSSPixels(r.PrintableWidthMM())), nil
}

// record is one entry of a bound variable array
type record struct {
	array  VariableArray
	values map[string]any
}

func renderCommand(doc *raster.Document, r *Receipt, cmd *Command, data Data) error {
	if cmd.ArrayBinding == "" {
		return emit(doc, r, cmd, data, nil)
	}

	array, ok := r.array(cmd.ArrayBinding)
	if !ok {
		return fmt.Errorf("unknown variable array: %s", cmd.ArrayBinding)
	}

	entries := data.Arrays[cmd.ArrayBinding]
	if len(entries) == 0 {
		// Preview with a single record of defaults
		defaults := make(map[string]any, len(array.Schema))
		for _, f := range array.Schema {
			defaults[f.Field] = f.DefaultValue
		}
		entries = []map[string]any{defaults}
	}

	for _, entry := range entries {
		if err := emit(doc, r, cmd, data, &record{array: array, values: entry}); err != nil {
			return err
		}
	}
	return nil
}

func emit(doc *raster.Document, r *Receipt, cmd *Command, data Data, rec *record) error {
	switch cmd.Type {
	case CommandText:
		value, err := resolve(r, cmd, data, rec)
		if err != nil {
			return err
		}
		doc.Text(value, textSize(cmd), cmd.Weight == "bold", align(cmd.Align))

	case CommandItem:
		left, err := joinSide(r, cmd.LeftSide, data, rec)
		if err != nil {
			return err
		}
		right, err := joinSide(r, cmd.RightSide, data, rec)
		if err != nil {
			return err
		}
		doc.Columns(left, right, textSize(cmd))

	case CommandDivider:
		doc.Divider(cmd.Style)

	case CommandBarcode:
		value, err := resolve(r, cmd, data, rec)
		if err != nil {
			return err
		}
		doc.Barcode(value, float64(cmd.Height), cmd.Position != "none")

	case CommandQRCode:
		value, err := resolve(r, cmd, data, rec)
		if err != nil {
			return err
		}
		doc.QRCode(value, float64(cmd.Width))

	case CommandFeed:
		lines := cmd.Lines
		if lines == 0 {
			lines = 1
		}
		doc.Feed(float64(lines * lineHeight))

	default:
		return fmt.Errorf("unknown command type: %s", cmd.Type)
	}
	return nil
}

func joinSide(r *Receipt, side []Command, data Data, rec *record) (string, error) {
	parts := make([]string, 0, len(side))
	for i := range side {
		value, err := resolve(r, &side[i], data, rec)
		if err != nil {
			return "", err
		}
		parts = append(parts, value)
	}
	return strings.Join(parts, " "), nil
}

func resolve(r *Receipt, cmd *Command, data Data, rec *record) (string, error) {
	switch {
	case cmd.DynamicValue != "":
		v, ok := r.variable(cmd.DynamicValue)
		if !ok {
			return "", fmt.Errorf("unknown variable: %s", cmd.DynamicValue)
		}
		value, set := data.Variables[v.Let]
		if !set || value == nil {
			value = v.DefaultValue
		}
		return formatValue(value, v.ValueType, v.Prefix, v.Suffix)

	case cmd.ArrayField != "":
		if rec == nil {
			return "", fmt.Errorf("arrayField '%s' used without arrayBinding", cmd.ArrayField)
		}
		f, ok := rec.array.field(cmd.ArrayField)
		if !ok {
			return "", fmt.Errorf("unknown field '%s' in array '%s'", cmd.ArrayField, rec.array.Name)
		}
		value, set := rec.values[f.Field]
		if !set || value == nil {
			value = f.DefaultValue
		}
		return formatValue(value, f.ValueType, f.Prefix, f.Suffix)
	}
	return cmd.Value, nil
}

// formatValue renders a JSON value. Doubles are printed with two decimals.
func formatValue(value any, valueType, prefix, suffix string) (string, error) {
	if value == nil {
		return "", nil
	}

	var s string
	switch valueType {
	case "double":
		d, err := toDecimal(value)
		if err != nil {
			return "", err
		}
		s = d.StringFixed(2)
	case "number":
		d, err := toDecimal(value)
		if err != nil {
			return "", err
		}
		s = d.String()
	case "boolean":
		switch b := value.(type) {
		case bool:
			s = strconv.FormatBool(b)
		default:
			s = fmt.Sprint(value)
		}
	default:
		s = fmt.Sprint(value)
	}
	return prefix + s + suffix, nil
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid number %q: %w", v, err)
		}
		return d, nil
	case json.Number:
		return decimal.NewFromString(v.String())
	default:
		return decimal.Zero, fmt.Errorf("invalid number %v", value)
	}
}

func textSize(cmd *Command) float64 {
	if cmd.Size > 0 {
		return float64(cmd.Size)
	}
	return defaultTextSize
}

func align(a string) raster.Align {
	switch a {
	case "center":
		return raster.AlignCenter
	case "right":
		return raster.AlignRight
	default:
		return raster.AlignLeft
	}
}
