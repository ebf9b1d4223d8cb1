// Package permission decides who may change shared room state.
//
// Identifiers are opaque strings supplied by the client. Nothing here
// authenticates them: whoever presents the stored owner id acts as owner.
package permission

// CanControl reports whether requesterID may flip the read-only or
// view-only flag of an artifact owned by ownerID. An artifact without an
// owner cannot be controlled, and an anonymous requester controls nothing.
func CanControl(ownerID, requesterID string) bool {
	return ownerID != "" && requesterID == ownerID
}

// CanMutate reports whether editorID may change an artifact whose lock
// flag is locked. Unlocked artifacts accept everyone.
func CanMutate(locked bool, ownerID, editorID string) bool {
	return !locked || CanControl(ownerID, editorID)
}

// Deref flattens a nullable owner id.
func Deref(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
