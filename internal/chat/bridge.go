package chat

// AskFromCard makes a dashboard card selection behave exactly like a typed
// submission: it switches to the chat view, fills the input buffer with the
// card's question, and submits. While a turn is in flight the submission is
// rejected and the question stays in the input buffer.
func AskFromCard(s *Session, question string) Effect {
	s.SetActiveView(ViewChat)
	s.SetPendingInput(question)
	return s.Submit()
}
