package ui

import "context"

// VoiceAdapter is intentionally a shell: speech-to-text runs on the audio
// service, which submits transcribed text through process_command. What
// enabling voice changes is the orchestrator's gate on sessions tagged
// "voice"; the adapter exists so the daemon can report the surface like
// any other.
type VoiceAdapter struct{}

func NewVoiceAdapter() *VoiceAdapter { return &VoiceAdapter{} }

func (a *VoiceAdapter) Name() string { return "voice" }

func (a *VoiceAdapter) Start(ctx context.Context) error {
	log.Info("voice sessions enabled; transcription arrives via process_command")
	return nil
}

func (a *VoiceAdapter) Stop() error { return nil }
