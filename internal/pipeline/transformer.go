package pipeline

import (
	"context"
	"io"

	"github.com/dunamismax/pixelserve/internal/domain"
)

// Transformer runs the decode, resize, and encode chain for one request. The
// two entry points share settings but differ in materialization: Transform
// works buffer to buffer, TransformTo streams the encoded output into dst as
// it is produced. Returned dimensions are the output pixel dimensions.
type Transformer interface {
	Transform(ctx context.Context, input []byte, req domain.TransformRequest) (data []byte, width, height int, err error)
	TransformTo(ctx context.Context, dst io.Writer, src io.Reader, req domain.TransformRequest) (width, height int, err error)
}

const transformStage = "transform"
