package shared

import "errors"

// UserSafeMessage maps an error to a message that can be shown to agents.
// Anything unrecognised collapses to a generic French error string so storage
// details never leak into the UI.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "Introuvable"
	case errors.Is(err, ErrInvalidCredentials):
		return "Email ou mot de passe incorrect"
	case errors.Is(err, ErrForbidden):
		return "Accès refusé"
	default:
		return "Une erreur est survenue"
	}
}
