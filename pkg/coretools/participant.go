package coretools

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkoval/zoya/pkg/profile"
	"github.com/dkoval/zoya/pkg/tool"
)

func rememberDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "remember_participant_info",
		Description: "Store a fact about a participant under a category. Lists and objects merge with existing notes unless overwrite is set.",
		Parameters: []tool.Parameter{
			{Name: "category", Type: "string", Description: "Note category, e.g. 'preferences' or 'birthday'", Required: true},
			{Name: "value", Type: "string", Description: "Value to store; JSON lists and objects are stored structurally", Required: true},
			{Name: "overwrite", Type: "boolean", Description: "Replace the existing value instead of merging", Required: false},
			{Name: "participant_id", Type: "string", Description: "Target participant; defaults to the current user, other participants require admin", Required: false},
		},
		Risk: tool.RiskMutating,
	}
}

func rememberHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		participantID, err := targetParticipant(args, scope)
		if err != nil {
			return nil, err
		}
		category := stringArg(args, "category")
		value := decodeValue(stringArg(args, "value"))

		if err := deps.Profiles.Remember(ctx, participantID, category, value, boolArg(args, "overwrite")); err != nil {
			return nil, err
		}
		return &tool.Output{Data: map[string]any{
			"participant_id": participantID,
			"category":       category,
			"stored":         true,
		}}, nil
	}
}

func recallDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "recall_participant_info",
		Description: "Recall stored notes about a participant, one category or all of them.",
		Parameters: []tool.Parameter{
			{Name: "category", Type: "string", Description: "Note category; omit to recall everything", Required: false},
			{Name: "participant_id", Type: "string", Description: "Target participant; defaults to the current user, other participants require admin", Required: false},
		},
		Risk: tool.RiskReadOnly,
	}
}

func recallHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		participantID, err := targetParticipant(args, scope)
		if err != nil {
			return nil, err
		}

		if category := stringArg(args, "category"); category != "" {
			value, err := deps.Profiles.Recall(ctx, participantID, category)
			if errors.Is(err, profile.ErrNotFound) {
				return &tool.Output{Data: map[string]any{
					"participant_id": participantID,
					"category":       category,
					"found":          false,
				}}, nil
			}
			if err != nil {
				return nil, err
			}
			return &tool.Output{Data: map[string]any{
				"participant_id": participantID,
				"category":       category,
				"found":          true,
				"value":          value,
			}}, nil
		}

		notes, err := deps.Profiles.RecallAll(ctx, participantID)
		if err != nil {
			return nil, err
		}
		return &tool.Output{Data: map[string]any{
			"participant_id": participantID,
			"notes":          notes,
		}}, nil
	}
}

func forgetDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "forget_participant_info",
		Description: "Delete a stored note category for a participant.",
		Parameters: []tool.Parameter{
			{Name: "category", Type: "string", Description: "Note category to delete", Required: true},
			{Name: "participant_id", Type: "string", Description: "Target participant; defaults to the current user, other participants require admin", Required: false},
		},
		Risk: tool.RiskMutating,
	}
}

func forgetHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		participantID, err := targetParticipant(args, scope)
		if err != nil {
			return nil, err
		}
		category := stringArg(args, "category")

		removed, err := deps.Profiles.Forget(ctx, participantID, category)
		if err != nil {
			return nil, err
		}
		return &tool.Output{Data: map[string]any{
			"participant_id": participantID,
			"category":       category,
			"removed":        removed,
		}}, nil
	}
}

// targetParticipant resolves which participant a note tool acts on.
// Only admin callers may target someone other than themselves.
func targetParticipant(args map[string]any, scope tool.ExecScope) (string, error) {
	target := stringArg(args, "participant_id")
	if target == "" || target == scope.Caller.ID {
		return scope.Caller.ID, nil
	}
	if !scope.Caller.Admin {
		return "", fmt.Errorf("only admins may access other participants' notes")
	}
	return target, nil
}
