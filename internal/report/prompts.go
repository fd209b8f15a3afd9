package report

import (
	"strings"
)

// Keywords recognized by the report flow. Matching is case-insensitive on the
// trimmed message.
const (
	KeywordReport  = "!report"
	KeywordBlock   = "!block"
	KeywordCancel  = "!cancel"
	KeywordHelp    = "!help"
	KeywordMessage = "message"
	KeywordUser    = "user"

	AnswerYes         = "yes"
	AnswerNo          = "no"
	AnswerDontKnow    = "i don't know"
	answerDontKnowAlt = "i dont know"
)

// menuItem is one numbered choice.
type menuItem struct {
	key   string
	label string
}

// abuseTypes is the abuse-type menu, in display order.
var abuseTypes = []menuItem{
	{"1", "harassment or bullying"},
	{"2", "nudity or pornography"},
	{"3", "suicide or self-harm"},
	{"4", "violence or drug abuse"},
	{"5", "the user may be under 13"},
	{"6", "selling or promoting restricted items"},
	{"7", "misleading content or scams"},
	{"8", "threatening or blackmailing"},
	{"9", AbuseImpersonation},
}

var impersonationVictims = []menuItem{
	{"1", VictimMe},
	{"2", "someone I know"},
	{"3", "someone else"},
}

func lookup(menu []menuItem, key string) (string, bool) {
	for _, it := range menu {
		if it.key == key {
			return it.label, true
		}
	}
	return "", false
}

func renderMenu(menu []menuItem) string {
	var b strings.Builder
	for _, it := range menu {
		b.WriteString("\n")
		b.WriteString(it.key)
		b.WriteString(". ")
		b.WriteString(it.label)
	}
	return b.String()
}

// Normalize lowercases and trims input and folds the "i dont know" spelling
// into AnswerDontKnow.
func Normalize(content string) string {
	s := strings.ToLower(strings.TrimSpace(content))
	if s == answerDontKnowAlt {
		return AnswerDontKnow
	}
	return s
}

// IsCancel reports whether content is the cancel keyword.
func IsCancel(content string) bool {
	return Normalize(content) == KeywordCancel
}

const (
	msgCancelled = "Report cancelled."
	msgInvalid   = "That is not a valid response. Please try again or say `" + KeywordCancel + "` to cancel."
	msgOk        = "Ok."

	msgNotMember = "It seems that this user profile is not in a guild I'm in. Please try again or say `" + KeywordCancel + "` to cancel."
	msgNoProfile = "It seems that this user profile was deleted or never existed. Please try again or say `" + KeywordCancel + "` to cancel."
	msgPlatform  = "I'm having trouble reaching the platform right now. Please try again in a moment or say `" + KeywordCancel + "` to cancel."

	msgBadLink          = "I'm sorry, I couldn't read that link. Please try again or say `" + KeywordCancel + "` to cancel."
	msgGuildUnreachable = "I cannot accept reports of messages from guilds that I'm not in. Please have the guild owner add me to the guild and try again."
	msgChannelMissing   = "It seems this channel was deleted or never existed. Please try again or say `" + KeywordCancel + "` to cancel."
	msgMessageMissing   = "It seems that this message was deleted or never existed. Please try again or say `" + KeywordCancel + "` to cancel."

	msgUsernameHowTo = "You can obtain this by clicking the user's Display Name or profile picture and copying the username that appears below their Display Name in the resulting popup."

	msgThanks = "Our content moderation team will review the report and take appropriate actions according to our Community Guidelines. " +
		"Note that your report is anonymous. The account you reported will not see who reported them."
)

func promptStart() string {
	return "Thank you for starting the reporting process. " +
		"Say `" + KeywordHelp + "` at any time for more information on commands you can use.\n\n" +
		"Are you reporting a message or a user profile?\n" +
		"You can say `" + KeywordMessage + "` or `" + KeywordUser + "`."
}

func promptInvalidReportType() string {
	return "That is not a valid response. Please say `" + KeywordMessage + "` or `" + KeywordUser +
		"`, or say `" + KeywordCancel + "` to cancel."
}

func promptMessageLink() string {
	return "Please copy and paste the link to the message you want to report.\n" +
		"You can obtain this link by right-clicking the message and clicking `Copy Message Link`."
}

func promptUsername(verb string) string {
	return "Please copy and paste the username of the user profile you wish to " + verb + ".\n\n" + msgUsernameHowTo
}

func promptAbuseType(lead string) string {
	return lead + " Enter the number for the type of abuse from the list below.\n" + renderMenu(abuseTypes)
}

func promptVictim() string {
	return "Who is this profile impersonating? Enter the number for the corresponding identity from the list below.\n" +
		renderMenu(impersonationVictims)
}

func promptHasProfile() string {
	return "Does the person being impersonated have a profile on this platform? You can say `yes`, `no`, or `I don't know`."
}

func promptRealProfile() string {
	return "What is the real username of the person being impersonated?\n" + msgUsernameHowTo +
		"\n\nEnter the username of the person being impersonated or say `I don't know`."
}

func promptRealPerson() string {
	return "Is this profile impersonating a real person (as in, not an AI-generated or otherwise fictitious persona)? " +
		"You can say `yes`, `no`, or `I don't know`."
}

func promptBlock(name string) string {
	return "Would you also like to block `" + name + "`? Enter `yes` or `no`."
}

func blocked(name string) string {
	return "Ok. You will no longer see content or messages from `" + name + "`."
}
