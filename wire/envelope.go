package wire

// SplitRouterEnvelope locates the first empty frame in a router
// envelope; frames before it are the identity prefix, frames after it
// are joined and decoded as the message body, per spec §4.1.
func SplitRouterEnvelope(frames [][]byte) (identity [][]byte, body Message, err error) {
	pos := -1
	for i, f := range frames {
		if len(f) == 0 {
			pos = i
			break
		}
	}
	if pos == -1 {
		return nil, Message{}, &Fault{Kind: MessageFormat, Status: InvalidRequest, Err: ErrNoEmptyFrame}
	}

	identity = frames[:pos]
	body, err = DecodeFrames(frames[pos+1:])
	if err != nil {
		return nil, Message{}, err
	}
	return identity, body, nil
}

// BuildRouterEnvelope produces identity ++ [empty] ++ [encoded body].
func BuildRouterEnvelope(identity [][]byte, body Message) ([][]byte, error) {
	encoded, err := Encode(body)
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, 0, len(identity)+2)
	frames = append(frames, identity...)
	frames = append(frames, []byte{})
	frames = append(frames, encoded)
	return frames, nil
}
