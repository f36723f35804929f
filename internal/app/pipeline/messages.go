package pipeline

const (
	msgBindingInstructions = "Your chat account is not linked yet. Open the web console, generate a binding code under Profile > Chat accounts, then send \"/bind <code>\" here within 5 minutes."
	msgBindUsage           = "Usage: /bind <6-digit code>"
	msgBindInvalid         = "That binding code is invalid or has expired. Generate a new one in the web console and try again."
	msgBindIdentityTaken   = "This chat account is already linked to a different user. Ask an administrator to unlink it first."
	msgBindAccountTaken    = "Your account is already linked to another identity on this platform."
	msgBindDone            = "Linked to account %s. You can start chatting now."

	msgResetDone      = "Conversation reset. Earlier messages will no longer be used as context."
	msgCompactDone    = "Conversation compacted. Older messages were replaced by a summary."
	msgCompactSkipped = "The conversation is still short; nothing to compact."
	msgCompactFailed  = "Compaction failed, the conversation was left unchanged. Please try again later."

	msgHelp = "Commands:\n/bind <code> link this chat account to your user\n/reset start a fresh conversation\n/compact summarize older messages\n/help show this message"

	msgApology        = "Sorry, I couldn't complete that request right now. Please try again in a moment."
	msgGenericFailure = "Sorry, something went wrong on my side. Please try again later."
	msgEmptyResponse  = "I don't have anything to add to that."
	msgImageFailed    = "I couldn't generate the requested image this time."

	progressThinking = "Thinking..."
	progressTool     = "Running %s..."
)
