package engine

// NativeOptions configures the whisper.cpp backend.
type NativeOptions struct {
	// Language is used when a pass does not request one.
	Language string
	// Threads is the default CPU thread count per pass; 0 leaves the library
	// default.
	Threads int
	// Instances is the number of model copies loaded, i.e. how many passes may
	// run in parallel. Values below 1 mean 1.
	Instances int
	// Translate asks whisper to translate into English.
	Translate bool
}

func (o NativeOptions) instances() int {
	if o.Instances < 1 {
		return 1
	}
	return o.Instances
}
