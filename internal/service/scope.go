package service

import (
	"context"
	"fmt"
	"strings"

	"barpos/backend/internal/domain"
)

// ResolveScope turns a requested site selection into the effective scope for
// actor. Cashiers are pinned to their site. An empty or "all" selection
// means every site for admins and the assigned site for everyone else. A
// manager naming any other site is refused.
func ResolveScope(actor domain.Actor, selectedSite string) (domain.Scope, error) {
	selectedSite = strings.TrimSpace(selectedSite)
	wantsAll := selectedSite == "" || strings.EqualFold(selectedSite, domain.AllSites)

	switch actor.Role {
	case domain.RoleAdmin:
		if wantsAll {
			return domain.Scope{All: true}, nil
		}
		return domain.Scope{SiteID: selectedSite}, nil
	case domain.RoleManager:
		if actor.SiteID == "" {
			return domain.Scope{}, fmt.Errorf("%w: no site assigned", ErrForbidden)
		}
		if !wantsAll && selectedSite != actor.SiteID {
			return domain.Scope{}, fmt.Errorf("%w: site %s is outside the assigned site", ErrForbidden, selectedSite)
		}
		return domain.Scope{SiteID: actor.SiteID}, nil
	case domain.RoleCashier:
		if actor.SiteID == "" {
			return domain.Scope{}, fmt.Errorf("%w: no site assigned", ErrForbidden)
		}
		return domain.Scope{SiteID: actor.SiteID}, nil
	default:
		return domain.Scope{}, fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
}

func (s *Service) scopeFor(ctx context.Context, selectedSite string) (domain.Actor, domain.Scope, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Actor{}, domain.Scope{}, err
	}
	scope, err := ResolveScope(actor, selectedSite)
	if err != nil {
		return domain.Actor{}, domain.Scope{}, err
	}
	return actor, scope, nil
}
