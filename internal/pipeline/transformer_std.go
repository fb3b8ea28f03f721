package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/fault"
)

// stdTransformer is the pure-Go transform chain. It covers every fit policy
// and the jpeg/png/webp encode targets; avif export needs the govips build.
type stdTransformer struct{}

func (t stdTransformer) Transform(ctx context.Context, input []byte, req domain.TransformRequest) ([]byte, int, int, error) {
	var buf bytes.Buffer
	width, height, err := t.TransformTo(ctx, &buf, bytes.NewReader(input), req)
	if err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), width, height, nil
}

func (t stdTransformer) TransformTo(ctx context.Context, dst io.Writer, src io.Reader, req domain.TransformRequest) (int, int, error) {
	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	default:
	}

	decoded, _, err := image.Decode(src)
	if err != nil {
		return 0, 0, fault.Wrap(fault.KindDecode, transformStage, "source image is not decodable", err)
	}

	out, err := applyFit(decoded, req)
	if err != nil {
		return 0, 0, err
	}

	if err := encodeTo(dst, out, req.Format); err != nil {
		return 0, 0, err
	}

	bounds := out.Bounds()
	return bounds.Dx(), bounds.Dy(), nil
}

func applyFit(src image.Image, req domain.TransformRequest) (image.Image, error) {
	if !req.HasResize() {
		return src, nil
	}

	w, h := req.Width, req.Height
	if w == 0 || h == 0 {
		// Single dimension: aspect-preserving resize; imaging treats the
		// zero dimension as derived.
		return imaging.Resize(src, w, h, imaging.Lanczos), nil
	}

	switch req.Fit {
	case domain.FitCover:
		return imaging.Fill(src, w, h, imaging.Center, imaging.Lanczos), nil
	case domain.FitFill:
		return imaging.Resize(src, w, h, imaging.Lanczos), nil
	case domain.FitInside:
		tw, th := scaledBox(src, w, h, false)
		return imaging.Resize(src, tw, th, imaging.Lanczos), nil
	case domain.FitOutside:
		tw, th := scaledBox(src, w, h, true)
		return imaging.Resize(src, tw, th, imaging.Lanczos), nil
	case domain.FitContain:
		tw, th := scaledBox(src, w, h, false)
		inner := imaging.Resize(src, tw, th, imaging.Lanczos)
		canvas := imaging.New(w, h, color.NRGBA{A: 255})
		return imaging.PasteCenter(canvas, inner), nil
	default:
		return nil, fault.New(fault.KindValidation, transformStage, fmt.Sprintf("unsupported fit %q", req.Fit))
	}
}

// scaledBox scales the source aspect ratio against a w×h box: the largest
// size fitting inside it, or the smallest size covering it when outer is set.
func scaledBox(src image.Image, w, h int, outer bool) (int, int) {
	bounds := src.Bounds()
	sw, sh := bounds.Dx(), bounds.Dy()
	if sw == 0 || sh == 0 {
		return w, h
	}

	sx := float64(w) / float64(sw)
	sy := float64(h) / float64(sh)
	scale := math.Min(sx, sy)
	if outer {
		scale = math.Max(sx, sy)
	}

	tw := int(math.Round(float64(sw) * scale))
	th := int(math.Round(float64(sh) * scale))
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}

func encodeTo(dst io.Writer, img image.Image, format domain.Format) error {
	switch format {
	case domain.FormatJPEG:
		if err := jpeg.Encode(dst, img, &jpeg.Options{Quality: domain.QualityDefault}); err != nil {
			return fault.Wrap(fault.KindEncode, transformStage, "encode jpeg", err)
		}
	case domain.FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(dst, img); err != nil {
			return fault.Wrap(fault.KindEncode, transformStage, "encode png", err)
		}
	case domain.FormatWebP:
		if err := webp.Encode(dst, img, &webp.Options{Quality: domain.QualityDefault}); err != nil {
			return fault.Wrap(fault.KindEncode, transformStage, "encode webp", err)
		}
	case domain.FormatAVIF:
		return fault.New(fault.KindEncode, transformStage, "avif export requires the govips build")
	default:
		return fault.New(fault.KindUnsupportedFormat, transformStage, fmt.Sprintf("unsupported output format %q", format))
	}
	return nil
}
