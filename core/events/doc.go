// Package events defines the typed voice-conversation event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_input.*
//   - assistant_response.*
//   - speech_state.*
//   - operation.*
//
// Semantics used across the package:
//
//   - Updated: mutable point-in-time snapshot that can change over time.
//   - Final: terminal immutable text for the current utterance.
//   - Failed: terminal failure; the payload carries the user-facing text.
//
// user_input events
//
//   - UserTranscriptInterimUpdated (user_input.transcript_interim_updated):
//     provisional recognition hypothesis.
//   - UserTranscriptFinal (user_input.transcript_final): final transcript for
//     the utterance. Synthesized is set when the silence detector produced it.
//
// assistant_response events
//
//   - AssistantResponseUpdated (assistant_response.updated): provisional
//     response text after each streamed token.
//   - AssistantResponseFinal (assistant_response.final): finalized response
//     text, queued for synthesis.
//   - AssistantResponseFailed (assistant_response.failed): the stream failed;
//     Notice replaces the provisional text.
//
// speech_state events
//
//   - SpeechStateChanged (speech_state.changed): any coordinator flag changed.
//
// operation events
//
//   - OperationFailed (operation.failed): an engine call was rejected or
//     misused.
//   - OperationTimedOut (operation.timed_out): an engine call exceeded the
//     maximum operation time and the engine was reset.
package events
