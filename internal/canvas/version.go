package canvas

// Version constants for the stored formats.
const (
	// SchemaVersion is the version of the persisted event/snapshot layout.
	SchemaVersion = "1"

	// ServiceVersion is the canvaslog release.
	ServiceVersion = "0.1.0"
)
