package domain

// Fit selects how a source image is mapped onto a target width/height box.
type Fit string

const (
	FitCover   Fit = "cover"
	FitContain Fit = "contain"
	FitFill    Fit = "fill"
	FitInside  Fit = "inside"
	FitOutside Fit = "outside"
)

// Format is an encode target.
type Format string

const (
	FormatAVIF Format = "avif"
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

const (
	DefaultFit    = FitCover
	DefaultFormat = FormatAVIF

	// Encode quality is an implementation constant, not request-controlled.
	QualityDefault = 80
	QualityAVIF    = 60
)

func ParseFit(in string) (Fit, bool) {
	switch Fit(in) {
	case FitCover, FitContain, FitFill, FitInside, FitOutside:
		return Fit(in), true
	default:
		return "", false
	}
}

func ParseFormat(in string) (Format, bool) {
	switch Format(in) {
	case FormatAVIF, FormatWebP, FormatJPEG, FormatPNG:
		return Format(in), true
	default:
		return "", false
	}
}

func Fits() []Fit {
	return []Fit{FitCover, FitContain, FitFill, FitInside, FitOutside}
}

func Formats() []Format {
	return []Format{FormatAVIF, FormatWebP, FormatJPEG, FormatPNG}
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

// TransformRequest is the validated transformation intent for one request.
// Width/Height of zero mean the dimension was absent.
type TransformRequest struct {
	SourceKey string
	Width     int
	Height    int
	Fit       Fit
	Format    Format
}

// HasResize reports whether any geometric transform applies. A request with
// neither dimension is a passthrough re-encode.
func (r TransformRequest) HasResize() bool {
	return r.Width > 0 || r.Height > 0
}

// Materialized is a fully-buffered transform result.
type Materialized struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}
