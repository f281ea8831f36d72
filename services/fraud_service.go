package services

import (
	"github.com/mooose/redacao-api/models"
)

type DecisionOutcome string

const (
	DecisionEligible       DecisionOutcome = "eligible"
	DecisionNotYetEligible DecisionOutcome = "not_yet_eligible"
	DecisionIneligible     DecisionOutcome = "ineligible"
)

// Decision is the fraud gate's verdict on an activation attempt.
// Ineligible means permanently violated (the referral gets rejected);
// NotYetEligible means the referred user simply has not qualified yet and
// the referral stays pending for a later retry.
type Decision struct {
	Outcome DecisionOutcome
	Reason  string
	// Facts holds the triggering evidence (matched IPs, fingerprints,
	// verification state) and is merged into the referral's audit metadata.
	Facts map[string]interface{}
}

// FraudInput is everything a rule may look at. EssayCount is the referred
// user's number of completed corrections.
type FraudInput struct {
	Referrer   *models.User
	Referred   *models.User
	EssayCount int64
}

type fraudRule interface {
	// Evaluate returns nil when the rule has no objection and the next
	// rule should run.
	Evaluate(in *FraudInput) *Decision
}

// FraudGate runs its rules in order. Irrecoverable signals (self-referral,
// shared IP, shared device) come before the recoverable "not yet" checks so
// a fraudulent referral is rejected immediately instead of lingering in
// pending and being rediscovered on every retry. Evaluate never fails; it
// always resolves to a Decision.
type FraudGate struct {
	rules []fraudRule
}

func NewFraudGate() *FraudGate {
	return &FraudGate{
		rules: []fraudRule{
			selfReferralRule{},
			sharedSignupIPRule{},
			sharedDeviceRule{},
			emailVerifiedRule{},
			minActivityRule{},
		},
	}
}

func (g *FraudGate) Evaluate(in *FraudInput) Decision {
	for _, rule := range g.rules {
		if d := rule.Evaluate(in); d != nil {
			return *d
		}
	}
	return Decision{Outcome: DecisionEligible, Reason: "eligible"}
}

type selfReferralRule struct{}

func (selfReferralRule) Evaluate(in *FraudInput) *Decision {
	if in.Referrer == nil || in.Referrer.ID != in.Referred.ID {
		return nil
	}
	return &Decision{
		Outcome: DecisionIneligible,
		Reason:  "self-referral",
		Facts:   map[string]interface{}{"user_id": in.Referred.ID.String()},
	}
}

type sharedSignupIPRule struct{}

func (sharedSignupIPRule) Evaluate(in *FraudInput) *Decision {
	if in.Referrer == nil || in.Referrer.SignupIP == nil || in.Referred.SignupIP == nil {
		return nil
	}
	if *in.Referrer.SignupIP == "" || *in.Referrer.SignupIP != *in.Referred.SignupIP {
		return nil
	}
	return &Decision{
		Outcome: DecisionIneligible,
		Reason:  "shared-ip",
		Facts:   map[string]interface{}{"signup_ip": *in.Referred.SignupIP},
	}
}

type sharedDeviceRule struct{}

func (sharedDeviceRule) Evaluate(in *FraudInput) *Decision {
	if in.Referrer == nil || in.Referrer.DeviceFingerprint == nil || in.Referred.DeviceFingerprint == nil {
		return nil
	}
	if *in.Referrer.DeviceFingerprint == "" || *in.Referrer.DeviceFingerprint != *in.Referred.DeviceFingerprint {
		return nil
	}
	return &Decision{
		Outcome: DecisionIneligible,
		Reason:  "shared-device",
		Facts:   map[string]interface{}{"device_fingerprint": *in.Referred.DeviceFingerprint},
	}
}

type emailVerifiedRule struct{}

func (emailVerifiedRule) Evaluate(in *FraudInput) *Decision {
	if in.Referred.IsVerified {
		return nil
	}
	return &Decision{
		Outcome: DecisionNotYetEligible,
		Reason:  "email-unverified",
	}
}

type minActivityRule struct{}

func (minActivityRule) Evaluate(in *FraudInput) *Decision {
	if in.EssayCount >= 1 {
		return nil
	}
	return &Decision{
		Outcome: DecisionNotYetEligible,
		Reason:  "no-activity",
		Facts:   map[string]interface{}{"completed_corrections": in.EssayCount},
	}
}
