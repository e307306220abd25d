// Package idp is the core of an OAuth2 / OpenID Connect identity provider.
//
// Token requests flow through TokenEndpoint: the grant type is looked up,
// every GrantValidator checks the request against the client registry, the
// client is authenticated and the registered GrantHandler establishes a
// Principal. TokenService then signs the access token, and the identity and
// refresh tokens when the openid and offline_access scopes were granted.
//
// Claims:
//   - Grant handlers build the principal and hand it to the
//     AugmentationPipeline. Augmentors run in order and may add roles,
//     organization memberships and permissions; the identity claims (sub,
//     client_id, scope, aud) cannot be changed by an augmentor.
//   - DestinationMap decides whether each claim lands in the access token,
//     the identity token or both.
//   - PrincipalRefresher reloads the user on authorization code and refresh
//     token grants so revoked roles and memberships drop out of new tokens.
//
// Lifecycle:
//   - Registration, email confirmation, password reset, profile updates,
//     deletion and restore run through LifecycleDispatcher. Before hooks may
//     veto with Fail; after hooks run once the change is committed and their
//     failures follow the configured AfterHookPolicy.
//
// Organizations:
//   - OrganizationResolver turns the tenant header into an
//     OrganizationContext after checking the caller is a member. The orgware
//     middleware installs it on the request context.
//
// Activity:
//   - ActivitySink receives sign-in, lockout, token and lifecycle events.
//     Sinks run best effort; errors are logged and never fail the request.
package idp
