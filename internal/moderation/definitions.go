package moderation

// Policy summaries shown to moderators next to a report, keyed by the abuse
// type label a reporter picks from the menu.
var definitions = map[string]string{
	"harassment or bullying": "Targeting individuals or a group of people primarily to cause psychological or physical harm, " +
		"including sexualization and threats to cause psychological or physical harm.",
	"nudity or pornography": "Imagery of visible genitalia or other intimate body parts, except in contexts of famine, genocide, " +
		"war crimes or crimes against humanity; imagery of nudity or sexual activity, except in medical or health contexts.",
	"suicide or self-harm": "Content that promotes, encourages, coordinates or provides instructions for life-threatening " +
		"injury or for injury to one's self.",
	"violence or drug abuse": "Depictions of people experiencing extreme inflicted bodily injury that may lead to loss of " +
		"life, including livestreams of capital punishment and sadistic remarks.",
	"the user may be under 13": "Accounts that appear to belong to a person below the minimum age to use the platform.",
	"selling or promoting restricted items": "Firearms, high-risk or non-medical drugs, pharmaceuticals, marijuana, endangered " +
		"species, live animals, human blood, alcohol or tobacco, weight loss products, historical artifacts, entheogens, " +
		"hazardous goods and materials.",
	"misleading content or scams": "Content that promotes, encourages, coordinates or provides instructions for deceiving a " +
		"third party for financial or personal gain, including falsified documentation and stolen information.",
	"threatening or blackmailing": "Content that promotes, encourages, coordinates or provides instructions for a conspiracy " +
		"or pledge to harm people, animals or property, including forced exposure of identity or personal information.",
	"impersonation": "Creating, repurposing or using an account that deliberately misrepresents its identity to mislead or " +
		"deceive others, evade enforcement, or speak for a person or entity without authorization.",
}

// Definition returns the policy summary for an abuse type label, or "" when
// there is none.
func Definition(abuseType string) string {
	return definitions[abuseType]
}
