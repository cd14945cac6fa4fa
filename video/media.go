package video

// VideoInfo is the probe result for a source file.
type VideoInfo struct {
	DurationSecs float64 `json:"duration"`
	VideoCodec   string  `json:"videoCodec"`
	AudioCodec   string  `json:"audioCodec,omitempty"`
	Container    string  `json:"container"`
	Width        int64   `json:"width"`
	Height       int64   `json:"height"`
	Bitrate      int64   `json:"bitrate"`
	FPS          float64 `json:"fps"`
	SizeBytes    int64   `json:"size"`
}

// HasAudio reports whether the probe found an audio stream.
func (v VideoInfo) HasAudio() bool {
	return v.AudioCodec != ""
}

// TranscodeResult reports a finished single-quality encode.
type TranscodeResult struct {
	OutputPath  string
	SizeBytes   int64
	Width       int64
	Height      int64
	ElapsedSecs float64
}

// SegmentResult reports a finished HLS segmenting run for one quality.
type SegmentResult struct {
	PlaylistPath string
	SegmentCount int
}
