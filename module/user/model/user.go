package model

import "time"

type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationApproved   VerificationStatus = "approved"
	VerificationRejected   VerificationStatus = "rejected"
)

type SubscriptionPlan string

const (
	PlanFree    SubscriptionPlan = "free"
	PlanPremium SubscriptionPlan = "premium"
)

const (
	ProfileTableName = "user_profile"

	ProfileFieldUserID = "user_id"
)

// Profile is the slice of the user record chat depends on. The profile service owns it;
// chat only reads.
type Profile struct {
	UserID             string             `bson:"user_id" json:"userId"`
	Nickname           string             `bson:"nickname,omitempty" json:"nickname,omitempty"`
	VerificationStatus VerificationStatus `bson:"verification_status" json:"verificationStatus"`
	SubscriptionPlan   SubscriptionPlan   `bson:"subscription_plan,omitempty" json:"subscriptionPlan"`
	UpdateTime         time.Time          `bson:"update_time,omitempty" json:"updateTime"`
}

// Approved reports whether the user may send messages.
func (p *Profile) Approved() bool {
	return p != nil && p.VerificationStatus == VerificationApproved
}

// Plan defaults to free when unset.
func (p *Profile) Plan() SubscriptionPlan {
	if p == nil || p.SubscriptionPlan == "" {
		return PlanFree
	}
	return p.SubscriptionPlan
}
