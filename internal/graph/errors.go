package graph

// UserInputError is rendered with extensions.code = BAD_USER_INPUT and the
// offending arguments under extensions.invalidArgs.
type UserInputError struct {
	Reason      string
	InvalidArgs map[string]any
}

func (e UserInputError) Error() string {
	return e.Reason
}

// Extensions implements gqlerrors.ExtendedError.
func (e UserInputError) Extensions() map[string]interface{} {
	return map[string]interface{}{
		"code":        "BAD_USER_INPUT",
		"invalidArgs": e.InvalidArgs,
	}
}
