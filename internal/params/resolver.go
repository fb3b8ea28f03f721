package params

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/fault"
)

const stage = "params"

// Resolve builds the transform intent from a path key and query string. It is
// pure: no I/O happens here, and a rejected request never reaches the source.
//
// Dimension policy: both absent means passthrough re-encode; a single present
// dimension requests an aspect-preserving resize on that dimension alone.
func Resolve(sourceKey string, query url.Values) (domain.TransformRequest, error) {
	key := strings.Trim(strings.TrimSpace(sourceKey), "/")
	if key == "" {
		return domain.TransformRequest{}, fault.New(fault.KindValidation, stage, "missing source key")
	}

	width, err := dimension(query, "width")
	if err != nil {
		return domain.TransformRequest{}, err
	}
	height, err := dimension(query, "height")
	if err != nil {
		return domain.TransformRequest{}, err
	}

	fit := domain.DefaultFit
	if raw := strings.TrimSpace(query.Get("fit")); raw != "" {
		parsed, ok := domain.ParseFit(strings.ToLower(raw))
		if !ok {
			return domain.TransformRequest{}, fault.New(
				fault.KindValidation,
				stage,
				fmt.Sprintf("unsupported fit %q, expected one of %s", raw, joinFits()),
			)
		}
		fit = parsed
	}

	format := domain.DefaultFormat
	if raw := strings.TrimSpace(query.Get("format")); raw != "" {
		parsed, ok := domain.ParseFormat(strings.ToLower(raw))
		if !ok {
			return domain.TransformRequest{}, fault.New(
				fault.KindUnsupportedFormat,
				stage,
				fmt.Sprintf("unsupported format %q, expected one of %s", raw, joinFormats()),
			)
		}
		format = parsed
	}

	return domain.TransformRequest{
		SourceKey: key,
		Width:     width,
		Height:    height,
		Fit:       fit,
		Format:    format,
	}, nil
}

func dimension(query url.Values, name string) (int, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fault.New(
			fault.KindValidation,
			stage,
			fmt.Sprintf("invalid %s %q, expected a positive integer", name, raw),
		)
	}
	return value, nil
}

func joinFits() string {
	fits := domain.Fits()
	parts := make([]string, len(fits))
	for i, f := range fits {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}

func joinFormats() string {
	formats := domain.Formats()
	parts := make([]string, len(formats))
	for i, f := range formats {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}
