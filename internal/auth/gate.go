package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/apperrors"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/storage"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/logger"
)

// Gate checks caller permissions before privileged operations. Denials carry
// the permission's human-readable message so surfaces can show it verbatim.
type Gate struct {
	userRepo storage.UserRepo
}

// NewGate creates an access gate backed by the user repository.
func NewGate(userRepo storage.UserRepo) *Gate {
	return &Gate{userRepo: userRepo}
}

// Authorize verifies the caller holds the given permission. An unknown caller,
// an undecodable permission set, a permission absent from the set, and an
// explicit denial all fail closed with ErrUnauthorized.
func (g *Gate) Authorize(ctx context.Context, callerID, permissionID string) error {
	log := logger.FromContext(ctx).With(
		zap.String("caller_id", callerID),
		zap.String("permission_id", permissionID),
	)

	if callerID == "" {
		log.Warn("Authorization failed: missing caller identity")
		return fmt.Errorf("%w: caller identity is required", apperrors.ErrUnauthorized)
	}

	user, err := g.userRepo.FindByID(ctx, callerID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			log.Warn("Authorization failed: unknown caller")
			return fmt.Errorf("%w: unknown caller %s", apperrors.ErrUnauthorized, callerID)
		}
		return fmt.Errorf("authorization lookup failed: %w", err)
	}

	set, err := user.PermissionSet()
	if err != nil {
		log.Error("Authorization failed: undecodable permission set", zap.Error(err))
		return fmt.Errorf("%w: invalid permission set for caller %s", apperrors.ErrUnauthorized, callerID)
	}

	perm, err := set.Get(permissionID)
	if err != nil {
		log.Warn("Authorization failed: permission not in set")
		return fmt.Errorf("%w: permission %s not granted", apperrors.ErrUnauthorized, permissionID)
	}

	if !perm.Granted {
		log.Info("Authorization denied")
		return fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, perm.DenialMessage)
	}

	log.Debug("Authorization granted")
	return nil
}
