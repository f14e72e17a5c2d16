package hub

import "fmt"

func TopicSessionUtterances(prefix string) string {
	return fmt.Sprintf("%s/session/+/utterance", prefix)
}

func TopicSkillResults(prefix string) string {
	return fmt.Sprintf("%s/skill/result/+", prefix)
}

func TopicUtterance(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/utterance", prefix, sessionID)
}

func TopicTyping(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/typing", prefix, sessionID)
}

func TopicSuggest(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/suggest", prefix, sessionID)
}

func TopicAnswer(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/answer", prefix, sessionID)
}

func TopicInvoke(prefix, requestID string) string {
	return fmt.Sprintf("%s/skill/invoke/%s", prefix, requestID)
}

func TopicResult(prefix, requestID string) string {
	return fmt.Sprintf("%s/skill/result/%s", prefix, requestID)
}
