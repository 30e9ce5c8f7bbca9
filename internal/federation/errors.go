package federation

import "errors"

// ErrProviderMisconfigured marks a provider configuration that is missing
// fields required by its protocol. It is a deployment defect, not a login
// failure, and is surfaced to callers as an internal error.
var ErrProviderMisconfigured = errors.New("identity provider is misconfigured")
