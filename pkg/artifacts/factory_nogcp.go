//go:build !gcp

package artifacts

import (
	"context"
	"fmt"
)

func openGCS(context.Context, GCSConfig) (Store, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
