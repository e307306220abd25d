package idp

import "context"

// ClientCredentialsGrantHandler issues principals for clients acting on their
// own behalf. There is no resource owner and no identity token.
type ClientCredentialsGrantHandler struct {
	pipeline  *AugmentationPipeline
	resources ScopeResources
}

func NewClientCredentialsGrantHandler(pipeline *AugmentationPipeline, resources ScopeResources) *ClientCredentialsGrantHandler {
	return &ClientCredentialsGrantHandler{pipeline: pipeline, resources: resources}
}

func (h *ClientCredentialsGrantHandler) HandleGrant(ctx context.Context, gc GrantContext) (*Principal, error) {
	scopes := gc.Scopes()

	principal := NewPrincipal(gc.ClientID()).
		AddClaim(ClaimClientID, gc.ClientID()).
		SetScopes(scopes...).
		SetResources(h.resources.Resolve(scopes)...)

	if err := h.pipeline.Run(ctx, nil, principal); err != nil {
		return nil, err
	}

	principal.RestrictDestinations(DestinationAccessToken)
	return principal, nil
}
