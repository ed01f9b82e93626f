// Package classify picks the display email for a lead and decides its
// verification status.
package classify

import (
	"net/url"
	"strings"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Result is the outcome of classifying a lead's email candidates.
type Result struct {
	// Email is set only when Status is verified.
	Email    *string
	Status   model.EmailStatus
	Selected *model.EmailCandidate
	Domain   string
}

// Domain extracts the bare host from a website value, dropping scheme,
// "www.", port and path.
func Domain(website string) string {
	w := strings.TrimSpace(strings.ToLower(website))
	if w == "" {
		return ""
	}
	if !strings.Contains(w, "://") {
		w = "http://" + w
	}
	u, err := url.Parse(w)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimSuffix(host, ".")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

// EmailDomain returns the lower-cased domain part of email.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

// Matches reports whether email belongs to domain or one of its subdomains.
func Matches(email, domain string) bool {
	if domain == "" {
		return false
	}
	d := EmailDomain(email)
	return d == domain || strings.HasSuffix(d, "."+domain)
}

// Classify selects the display email for a business website. Selection
// order: verified+matching, any verified when no domain is known,
// unverified+matching, any unverified. When verifyEnabled is false no
// candidate is treated as verified.
func Classify(website string, candidates []model.EmailCandidate, verifyEnabled bool) Result {
	domain := Domain(website)
	res := Result{Status: model.EmailNotFound, Domain: domain}

	var verifiedMatch, verifiedAny, unverifiedMatch, unverifiedAny *model.EmailCandidate
	for i := range candidates {
		c := &candidates[i]
		if EmailDomain(c.Value) == "" {
			continue
		}
		verified := verifyEnabled && c.Verified
		match := Matches(c.Value, domain)
		switch {
		case verified && match:
			verifiedMatch = better(verifiedMatch, c)
		case verified:
			verifiedAny = better(verifiedAny, c)
		case match:
			unverifiedMatch = better(unverifiedMatch, c)
		default:
			unverifiedAny = better(unverifiedAny, c)
		}
	}

	switch {
	case verifiedMatch != nil:
		res.Selected, res.Status = verifiedMatch, model.EmailVerified
	case domain == "" && verifiedAny != nil:
		res.Selected, res.Status = verifiedAny, model.EmailVerified
	case unverifiedMatch != nil:
		res.Selected, res.Status = unverifiedMatch, model.EmailUnconfirmed
	case unverifiedAny != nil:
		res.Selected, res.Status = unverifiedAny, model.EmailUnconfirmed
	case verifiedAny != nil:
		// Verified but off-domain: kept as a hint, never presented as confirmed.
		res.Selected, res.Status = verifiedAny, model.EmailUnconfirmed
	}

	if res.Status == model.EmailVerified {
		email := res.Selected.Value
		res.Email = &email
	}
	return res
}

// Apply writes r onto lead. Only a verified result fills the primary email.
func Apply(lead *model.ScoredLead, r Result) {
	lead.Email = r.Email
	lead.Enhancement.EmailStatus = r.Status
	lead.Enhancement.Domain = r.Domain
	lead.Enhancement.CandidateEmail = ""
	if r.Selected != nil {
		lead.Enhancement.CandidateEmail = r.Selected.Value
	}
}

// better keeps the higher-confidence candidate, first seen on ties.
func better(cur, next *model.EmailCandidate) *model.EmailCandidate {
	if cur == nil || next.Confidence > cur.Confidence {
		return next
	}
	return cur
}
