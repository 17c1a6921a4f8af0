package synth

// AudioSource selects the reference voice for a request: either a stored
// sample or audio uploaded with the request.
type AudioSource interface {
	isAudioSource()
}

// NamedSource refers to a stored sample by its (unsanitized) name.
type NamedSource struct {
	Name string
}

// InlineSource is reference audio supplied with the request.
type InlineSource struct {
	Filename string
	Data     []byte
}

func (NamedSource) isAudioSource()  {}
func (InlineSource) isAudioSource() {}

// SourceFrom builds the source from the request fields. A sample name wins
// over an upload when both are given; nil means neither was provided.
func SourceFrom(sampleName string, upload *InlineSource) AudioSource {
	if sampleName != "" {
		return NamedSource{Name: sampleName}
	}
	if upload != nil {
		return *upload
	}
	return nil
}
