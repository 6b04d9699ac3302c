package layout

// Form is the editable label layout. Selecting a preset does not overwrite
// the custom dimensions, so switching back to Custom restores them.
type Form struct {
	settings Settings

	// ContentScalePercent scales the label text and codes, not the page.
	ContentScalePercent float64

	// SaveSettings controls whether a successful print persists the layout.
	SaveSettings bool
}

// NewForm creates a form seeded from persisted settings
func NewForm(s Settings) *Form {
	return &Form{
		settings:            s.Normalize(),
		ContentScalePercent: 100,
		SaveSettings:        true,
	}
}

// SetPaperSize selects a preset name or Custom
func (f *Form) SetPaperSize(name string) {
	if name == "" {
		name = PaperCustom
	}
	f.settings.PaperSize = name
}

// SetCustomSize stores user-entered custom dimensions
func (f *Form) SetCustomSize(width, height string) {
	f.settings.PaperWidthMM = ParseMM(width)
	f.settings.PaperHeightMM = ParseMM(height)
}

// SetMargins replaces all four margins
func (f *Form) SetMargins(m Margins) {
	f.settings.Margins = m
}

// SetCopies sets the copy count; values below 1 become 1.
func (f *Form) SetCopies(n int) {
	if n < 1 {
		n = 1
	}
	f.settings.Copies = n
}

// SetOrientation sets the page orientation
func (f *Form) SetOrientation(o Orientation) {
	if o != Landscape {
		o = Portrait
	}
	f.settings.Orientation = o
}

// SetScalePercent sets the print scale
func (f *Form) SetScalePercent(p float64) {
	if p <= 0 {
		p = 100
	}
	f.settings.ScalePercent = p
}

// SetFontFamily sets the font family used by the template
func (f *Form) SetFontFamily(family string) {
	f.settings.FontFamily = family
}

// Effective returns the paper size that will be printed
func (f *Form) Effective() Paper {
	return f.settings.Paper()
}

// Settings returns the layout as it should be printed and persisted: the
// stored width and height are the effective ones.
func (f *Form) Settings() Settings {
	s := f.settings
	p := f.Effective()
	s.PaperWidthMM = p.WidthMM
	s.PaperHeightMM = p.HeightMM
	return s
}
