package oauthstate

import "github.com/growgrammers/authflow/internal/provider"

// Storage keys. They are shared with other agent processes and must stay stable.
const (
	KeyInProgress          = "oauth_in_progress"
	KeyProvider            = "oauth_provider"
	KeyLinkingMode         = "is_linking_mode"
	KeyLinkingProvider     = "linking_provider"
	KeyCurrentProviderType = "current_provider_type"
	KeyAuthToken           = "auth_token"
	KeyUserInfo            = "user_info"
)

func verifierKey(p provider.Name) string   { return string(p) + "_oauth_code_verifier" }
func stateKey(p provider.Name) string      { return string(p) + "_oauth_state" }
func codeKey(p provider.Name) string       { return string(p) + "_auth_code" }
func codeUsedKey(p provider.Name) string   { return string(p) + "_code_used" }
func processingKey(p provider.Name) string { return string(p) + "_callback_processing" }
