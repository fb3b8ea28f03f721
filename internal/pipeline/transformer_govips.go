//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/fault"
)

// govipsTransformer runs the transform chain on libvips. It is the only path
// with avif export.
type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, req domain.TransformRequest) ([]byte, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, 0, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, 0, 0, fault.Wrap(fault.KindDecode, transformStage, "source image is not decodable", err)
	}
	defer img.Close()

	if err := applyGovipsFit(img, req); err != nil {
		return nil, 0, 0, err
	}

	data, err := exportGovips(img, req.Format)
	if err != nil {
		return nil, 0, 0, err
	}

	return data, img.Width(), img.Height(), nil
}

func (t govipsTransformer) TransformTo(ctx context.Context, dst io.Writer, src io.Reader, req domain.TransformRequest) (int, int, error) {
	input, err := io.ReadAll(src)
	if err != nil {
		return 0, 0, fault.Wrap(fault.KindUpstream, transformStage, "read source stream", err)
	}

	data, width, height, err := t.Transform(ctx, input, req)
	if err != nil {
		return 0, 0, err
	}

	if _, err := dst.Write(data); err != nil {
		return 0, 0, fault.Wrap(fault.KindEncode, transformStage, "write encoded output", err)
	}
	return width, height, nil
}

func applyGovipsFit(img *vips.ImageRef, req domain.TransformRequest) error {
	if !req.HasResize() {
		return nil
	}

	w, h := req.Width, req.Height
	if w == 0 || h == 0 {
		scale := singleDimensionScale(img, w, h)
		if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
			return fault.Wrap(fault.KindEncode, transformStage, "resize image", err)
		}
		return nil
	}

	var err error
	switch req.Fit {
	case domain.FitCover:
		err = img.ThumbnailWithSize(w, h, vips.InterestingCentre, vips.SizeBoth)
	case domain.FitFill:
		err = img.ResizeWithVScale(
			float64(w)/float64(img.Width()),
			float64(h)/float64(img.Height()),
			vips.KernelLanczos3,
		)
	case domain.FitInside:
		err = img.ThumbnailWithSize(w, h, vips.InterestingNone, vips.SizeBoth)
	case domain.FitOutside:
		sx := float64(w) / float64(img.Width())
		sy := float64(h) / float64(img.Height())
		scale := sx
		if sy > scale {
			scale = sy
		}
		err = img.Resize(scale, vips.KernelLanczos3)
	case domain.FitContain:
		if err = img.ThumbnailWithSize(w, h, vips.InterestingNone, vips.SizeBoth); err != nil {
			break
		}
		err = img.EmbedBackground((w-img.Width())/2, (h-img.Height())/2, w, h, &vips.Color{})
	default:
		return fault.New(fault.KindValidation, transformStage, fmt.Sprintf("unsupported fit %q", req.Fit))
	}
	if err != nil {
		return fault.Wrap(fault.KindEncode, transformStage, "resize image", err)
	}
	return nil
}

func singleDimensionScale(img *vips.ImageRef, w, h int) float64 {
	if w > 0 {
		return float64(w) / float64(img.Width())
	}
	return float64(h) / float64(img.Height())
}

func exportGovips(img *vips.ImageRef, format domain.Format) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = domain.QualityDefault
		data, _, err = img.ExportJpeg(params)
	case domain.FormatPNG:
		params := vips.NewPngExportParams()
		params.Quality = domain.QualityDefault
		data, _, err = img.ExportPng(params)
	case domain.FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = domain.QualityDefault
		data, _, err = img.ExportWebp(params)
	case domain.FormatAVIF:
		params := vips.NewAvifExportParams()
		params.Quality = domain.QualityAVIF
		data, _, err = img.ExportAvif(params)
	default:
		return nil, fault.New(fault.KindUnsupportedFormat, transformStage, fmt.Sprintf("unsupported output format %q", format))
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindEncode, transformStage, fmt.Sprintf("encode %s", format), err)
	}
	return data, nil
}
