package rules

import (
	"regexp"
	"sort"
	"strings"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// All patterns run against text already passed through utils.NormalizeText,
// so they are written in lower case.

var strongOTPPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(otp|one[ -]?time[ -]?(password|passcode|pin|code)|verification code|security code|auth(entication)? code|login code)\b[^0-9]{0,30}\b\d{4,8}\b`),
	regexp.MustCompile(`\b\d{4,8}\b[^0-9]{0,20}\b(is|as) (your|the) (otp|one[ -]?time password|verification code|security code|login code|code)\b`),
	regexp.MustCompile(`\buse\s+\d{4,8}\s+(to|for|as)\s+(verify|verification|login|log in|sign in|signin|authenticate|confirm)`),
}

var weakOTPPattern = regexp.MustCompile(`\bcode\b[^0-9]{0,15}\b\d{4,8}\b`)

var promoCodePattern = regexp.MustCompile(`\b(promo|coupon|discount|referral|voucher|offer)\s*code\b`)

var abuseWarnings = []string{
	"warning: spam",
	"warning : spam",
	"warning spam",
	"suspected spam",
	"reported as spam",
	"this is spam",
	"likely spam",
	"spam alert",
	"fraud alert",
	"suspected fraud",
	"potential fraud",
}

var transactionPattern = regexp.MustCompile(`\b(debited|credited|a/c|acct|avl bal|available balance|balance|upi|neft|imps|rtgs|emi|transaction|txn)\b`)

// bankTokens are matched against the sender suffix and as whole words in the body
var bankTokens = []string{
	"sbi", "sbiinb", "sbipsg", "hdfc", "hdfcbk", "icici", "icicib", "axis", "axisbk",
	"kotak", "kotakb", "pnb", "pnbsms", "bob", "barodab", "canara", "canbnk", "idfc", "idfcfb",
	"yesbnk", "yes bank", "indusind", "indusb", "unionb", "paytm", "iobchn", "boiind",
}

var bankBodyPattern = buildWordPattern(bankTokens)

var shortLinkPattern = regexp.MustCompile(`\b(bit\.ly|tinyurl\.com|goo\.gl|t\.co|ow\.ly|is\.gd|buff\.ly|cutt\.ly|rb\.gy|shorturl\.at|tiny\.cc|t\.ly|rebrand\.ly)/\S*`)

var urlPattern = regexp.MustCompile(`(https?://|www\.)\S+`)

var phonePattern = regexp.MustCompile(`(\+?\d{1,3}[\s-]?)?\b\d{10}\b`)

var currencyPattern = regexp.MustCompile(`(₹|\$|\b(rs\.?|inr|usd))\s?\d[\d,]*`)

var allCapsWordPattern = regexp.MustCompile(`\b[A-Z]{3,}\b`)

// keyword is a spam indicator with its contribution to the spam score
type keyword struct {
	text    string
	weight  float64
	pattern *regexp.Regexp
}

func kw(text string, weight float64) keyword {
	return keyword{
		text:    text,
		weight:  weight,
		pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(text) + `\b`),
	}
}

var spamKeywords = []keyword{
	// promotional
	kw("congratulations", 15),
	kw("winner", 15),
	kw("won", 15),
	kw("win", 12),
	kw("prize", 15),
	kw("lottery", 20),
	kw("jackpot", 20),
	kw("crore", 12),
	kw("lakh", 10),
	kw("free", 12),
	kw("offer", 10),
	kw("discount", 10),
	kw("sale", 8),
	kw("deal", 8),
	kw("cashback", 10),
	kw("exclusive", 8),
	kw("claim", 12),
	kw("reward", 10),
	kw("selected", 8),
	kw("lucky", 12),
	kw("guaranteed", 12),
	kw("risk-free", 12),
	kw("pre-approved", 15),
	kw("loan approved", 15),
	kw("earn", 10),
	kw("limited time", 12),
	// urgency
	kw("urgent", 10),
	kw("act now", 12),
	kw("hurry", 10),
	kw("last chance", 12),
	kw("expires today", 10),
	kw("immediately", 8),
	kw("final notice", 10),
	// links
	kw("click here", 12),
	kw("unsubscribe", 8),
}

// messageTypeKeywords describe the user-declarable important message types
var messageTypeKeywords = map[core.MessageType][]string{
	core.TypeBanking:   {"bank", "account", "a/c", "debited", "credited", "balance", "upi", "neft", "imps", "loan", "card", "emi"},
	core.TypeEcommerce: {"order", "shipped", "delivered", "out for delivery", "dispatched", "refund", "return", "tracking"},
	core.TypeTravel:    {"pnr", "flight", "boarding", "train", "booking", "ticket", "check-in", "hotel", "cab"},
	core.TypeUtilities: {"electricity", "bill", "recharge", "due date", "gas", "water", "broadband", "postpaid", "prepaid"},
	core.TypePersonal:  {"call me", "meet", "dinner", "home", "tonight", "tomorrow", "love", "mom", "dad", "reached"},
}

var messageTypePatterns = func() map[core.MessageType]*regexp.Regexp {
	out := make(map[core.MessageType]*regexp.Regexp, len(messageTypeKeywords))
	for t, words := range messageTypeKeywords {
		out[t] = buildWordPattern(words)
	}
	return out
}()

var messageTypeOrder = func() []core.MessageType {
	types := make([]core.MessageType, 0, len(messageTypeKeywords))
	for t := range messageTypeKeywords {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}()

func buildWordPattern(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
}
