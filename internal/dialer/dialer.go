// Package dialer places and terminates the outbound test calls and builds
// the TwiML that routes call audio into the media-stream bridge.
package dialer

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// Config carries the Twilio account and call routing settings.
type Config struct {
	AccountSID string
	AuthToken  string
	// From is the Twilio number calls originate from.
	From string
	// Target is the number of the agent under test.
	Target string
	// PublicDomain is the externally reachable host serving /twiml and
	// /media-stream (an ngrok domain during development).
	PublicDomain string
}

// callAPI is the slice of the Twilio REST API the service uses.
type callAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error)
}

// Service wraps outbound call control.
type Service struct {
	cfg Config
	api callAPI
}

// New builds a dialer service backed by the Twilio REST client.
func New(cfg Config) *Service {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Service{cfg: cfg, api: client.Api}
}

// PlaceCall dials the target agent for the given scenario and returns the
// call SID. The scenario travels in the TwiML URL so /twiml can embed it as
// a stream parameter.
func (s *Service) PlaceCall(scenarioName string) (string, error) {
	params := &twilioApi.CreateCallParams{}
	params.SetTo(s.cfg.Target)
	params.SetFrom(s.cfg.From)
	params.SetUrl(fmt.Sprintf("https://%s/twiml?scenario=%s", s.cfg.PublicDomain, scenarioName))
	params.SetStatusCallback(fmt.Sprintf("https://%s/call-status", s.cfg.PublicDomain))
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetStatusCallbackMethod("POST")
	params.SetRecord(false)
	params.SetTimeout(60)

	call, err := s.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	sid := ""
	if call.Sid != nil {
		sid = *call.Sid
	}
	log.Infof("dialer: call initiated sid=%s scenario=%s to=%s", sid, scenarioName, s.cfg.Target)
	return sid, nil
}

// HangUp terminates an in-progress call.
func (s *Service) HangUp(callSID string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := s.api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("hang up call %s: %w", callSID, err)
	}
	log.Infof("dialer: call hung up sid=%s", callSID)
	return nil
}

// GenerateTwiML builds the response that connects the call to the media
// stream. The scenario rides in a <Parameter> element so it reaches the
// bridge inside the start event, never in the WS URL.
func (s *Service) GenerateTwiML(scenarioName string) (string, error) {
	stream := &twiml.VoiceStream{
		Url: fmt.Sprintf("wss://%s/media-stream", s.cfg.PublicDomain),
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "scenario", Value: scenarioName},
		},
	}
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return doc, nil
}
