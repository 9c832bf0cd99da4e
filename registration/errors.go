package registration

import (
	"github.com/pkg/errors"

	"go.viam.com/multialign/pointcloud"
)

var (
	// ErrInvalidInput is returned for empty or degenerate clouds and invalid parameters.
	ErrInvalidInput = pointcloud.ErrInvalidInput
	// ErrIndexConstruction is returned when a spatial or descriptor index cannot be built.
	ErrIndexConstruction = pointcloud.ErrIndexConstruction
	// ErrInsufficientCorrespondences is returned when fewer than three usable matches remain.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
)

// MinCorrespondences is the fewest correspondences that determine a rigid transform.
const MinCorrespondences = 3
