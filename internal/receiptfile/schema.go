// Package receiptfile reads .receipt templates: JSON documents with
// variables, repeatable variable arrays and a list of print commands. A
// template filled with data renders to a raster document.
package receiptfile

// Command types
const (
	CommandText    = "text"
	CommandItem    = "item"
	CommandDivider = "divider"
	CommandBarcode = "barcode"
	CommandQRCode  = "qrcode"
	CommandFeed    = "feed"
)

// Receipt is the root of a .receipt file
type Receipt struct {
	Version        string          `json:"version" validate:"required,eq=1.0"`
	Name           string          `json:"name,omitempty"`
	Description    string          `json:"description,omitempty"`
	PaperWidth     string          `json:"paper_width,omitempty" validate:"omitempty,oneof=58mm 80mm 112mm"`
	Variables      []Variable      `json:"variables,omitempty" validate:"dive"`
	VariableArrays []VariableArray `json:"variableArrays,omitempty" validate:"dive"`
	Commands       []Command       `json:"commands" validate:"required,min=1,dive"`
}

// Variable is a named template value
type Variable struct {
	Let          string `json:"let" validate:"required"`
	ValueType    string `json:"valueType" validate:"oneof=string number double boolean"`
	DefaultValue any    `json:"defaultValue,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	Suffix       string `json:"suffix,omitempty"`
	Description  string `json:"description,omitempty"`
}

// VariableArray is a repeatable record, such as the lines of an order
type VariableArray struct {
	Name        string               `json:"name" validate:"required"`
	Description string               `json:"description,omitempty"`
	Schema      []VariableArrayField `json:"schema" validate:"required,min=1,dive"`
}

// VariableArrayField is one field of a variable array record
type VariableArrayField struct {
	Field        string `json:"field" validate:"required"`
	ValueType    string `json:"valueType" validate:"oneof=string number double boolean"`
	DefaultValue any    `json:"defaultValue,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	Suffix       string `json:"suffix,omitempty"`
}

// Command is one print command. A command with an ArrayBinding is
// repeated once per record of that array.
type Command struct {
	Type         string `json:"type" validate:"oneof=text item divider barcode qrcode feed"`
	ArrayBinding string `json:"arrayBinding,omitempty"`

	// Value source: exactly one of these for text, barcode and qrcode
	Value        string `json:"value,omitempty"`
	DynamicValue string `json:"dynamicValue,omitempty"`
	ArrayField   string `json:"arrayField,omitempty"`

	// Text
	Weight string `json:"weight,omitempty" validate:"omitempty,oneof=regular bold"`
	Size   int    `json:"size,omitempty" validate:"gte=0"`
	Align  string `json:"align,omitempty" validate:"omitempty,oneof=left center right"`

	// Item: a two-column row built from text commands
	LeftSide  []Command `json:"left_side,omitempty" validate:"dive"`
	RightSide []Command `json:"right_side,omitempty" validate:"dive"`

	// Divider: solid, dashed or double
	Style string `json:"style,omitempty" validate:"omitempty,oneof=solid dashed double"`

	// Barcode and QR code
	Height   int    `json:"height,omitempty" validate:"gte=0"`
	Width    int    `json:"width,omitempty" validate:"gte=0"`
	Position string `json:"position,omitempty" validate:"omitempty,oneof=below none"`

	// Feed
	Lines int `json:"lines,omitempty" validate:"gte=0"`
}

// PrintableWidthMM is the printable width of the template's paper roll
func (r *Receipt) PrintableWidthMM() float64 {
	switch r.PaperWidth {
	case "58mm":
		return 48
	case "112mm":
		return 104
	default:
		return 72
	}
}

func (r *Receipt) variable(name string) (Variable, bool) {
	for _, v := range r.Variables {
		if v.Let == name {
			return v, true
		}
	}
	return Variable{}, false
}

func (r *Receipt) array(name string) (VariableArray, bool) {
	for _, a := range r.VariableArrays {
		if a.Name == name {
			return a, true
		}
	}
	return VariableArray{}, false
}

func (a VariableArray) field(name string) (VariableArrayField, bool) {
	for _, f := range a.Schema {
		if f.Field == name {
			return f, true
		}
	}
	return VariableArrayField{}, false
}
