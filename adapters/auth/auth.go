package auth

import (
	"fmt"

	"github.com/layer-3/ordbok/ports"
)

// New builds the authenticator named by strategy. The session and hybrid
// strategies need a store; stateless only needs the codec.
func New(strategy string, c ports.TokenCodec, sessions ports.SessionStore, denyList ports.DenyList) (ports.Authenticator, error) {
	switch strategy {
	case "", StrategyStateless:
		return NewStateless(c), nil
	case StrategySession:
		if sessions == nil {
			return nil, fmt.Errorf("auth strategy %q requires a session store", strategy)
		}
		return NewSession(sessions), nil
	case StrategyHybrid:
		if denyList == nil {
			return nil, fmt.Errorf("auth strategy %q requires a deny list", strategy)
		}
		return NewHybrid(c, denyList), nil
	default:
		return nil, fmt.Errorf("unknown auth strategy %q", strategy)
	}
}
