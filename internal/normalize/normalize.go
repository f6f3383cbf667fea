// Package normalize maps remote records onto the documents stored for them.
// Every function is total: absent optional fields become explicit nulls,
// absent nested objects become objects of nulls, and absent lists become
// empty lists.
package normalize

import (
	"github.com/agentworkforce/graphsync/internal/docstore"
	"github.com/agentworkforce/graphsync/internal/graph"
)

// Key fields of the stored collections.
const (
	PrincipalKey = "userId"
	LogKey       = "logId"
)

func Principal(u graph.User) docstore.Document {
	return docstore.Document{
		PrincipalKey:        u.ID,
		"displayName":       str(u.DisplayName),
		"email":             str(u.Mail),
		"jobTitle":          str(u.JobTitle),
		"userPrincipalName": str(u.UserPrincipalName),
		"mobilePhone":       str(u.MobilePhone),
		"businessPhones":    stringList(u.BusinessPhones),
		"givenName":         str(u.GivenName),
		"officeLocation":    str(u.OfficeLocation),
		"preferredLanguage": str(u.PreferredLanguage),
		"surname":           str(u.Surname),
		"accountEnabled":    boolean(u.AccountEnabled),
		"userType":          str(u.UserType),
	}
}

func SignIn(s graph.SignIn) docstore.Document {
	status := graph.SignInStatus{}
	if s.Status != nil {
		status = *s.Status
	}
	return docstore.Document{
		LogKey:                    s.ID,
		"createdDateTime":         s.CreatedDateTime,
		"userDisplayName":         str(s.UserDisplayName),
		"userPrincipalName":       str(s.UserPrincipalName),
		"userId":                  str(s.UserID),
		"appId":                   str(s.AppID),
		"appDisplayName":          str(s.AppDisplayName),
		"ipAddress":               str(s.IPAddress),
		"clientAppUsed":           str(s.ClientAppUsed),
		"correlationId":           str(s.CorrelationID),
		"conditionalAccessStatus": str(s.ConditionalAccessStatus),
		"isInteractive":           boolean(s.IsInteractive),
		"riskDetail":              str(s.RiskDetail),
		"riskLevelAggregated":     str(s.RiskLevelAggregated),
		"riskLevelDuringSignIn":   str(s.RiskLevelDuringSignIn),
		"riskState":               str(s.RiskState),
		"resourceDisplayName":     str(s.ResourceDisplayName),
		"resourceId":              str(s.ResourceID),
		"status": map[string]any{
			"errorCode":         integer(status.ErrorCode),
			"failureReason":     str(status.FailureReason),
			"additionalDetails": str(status.AdditionalDetails),
		},
	}
}

func Audit(a graph.DirectoryAudit) docstore.Document {
	initiator := graph.AuditActivityInitiator{}
	if a.InitiatedBy != nil {
		initiator = *a.InitiatedBy
	}
	app := graph.AppIdentity{}
	if initiator.App != nil {
		app = *initiator.App
	}
	user := graph.UserIdentity{}
	if initiator.User != nil {
		user = *initiator.User
	}

	targets := make([]any, 0, len(a.TargetResources))
	for _, target := range a.TargetResources {
		modified := make([]any, 0, len(target.ModifiedProperties))
		for _, prop := range target.ModifiedProperties {
			modified = append(modified, map[string]any{
				"displayName": str(prop.DisplayName),
				"oldValue":    str(prop.OldValue),
				"newValue":    str(prop.NewValue),
			})
		}
		targets = append(targets, map[string]any{
			"id":                 str(target.ID),
			"displayName":        str(target.DisplayName),
			"type":               str(target.Type),
			"userPrincipalName":  str(target.UserPrincipalName),
			"modifiedProperties": modified,
		})
	}

	details := make([]any, 0, len(a.AdditionalDetails))
	for _, kv := range a.AdditionalDetails {
		details = append(details, map[string]any{
			"key":   str(kv.Key),
			"value": str(kv.Value),
		})
	}

	return docstore.Document{
		LogKey:                a.ID,
		"category":            str(a.Category),
		"activityDateTime":    a.ActivityDateTime,
		"activityDisplayName": str(a.ActivityDisplayName),
		"operationType":       str(a.OperationType),
		"result":              str(a.Result),
		"resultReason":        str(a.ResultReason),
		"loggedByService":     str(a.LoggedByService),
		"correlationId":       str(a.CorrelationID),
		"initiatedBy": map[string]any{
			"app": map[string]any{
				"appId":                str(app.AppID),
				"displayName":          str(app.DisplayName),
				"servicePrincipalId":   str(app.ServicePrincipalID),
				"servicePrincipalName": str(app.ServicePrincipalName),
			},
			"user": map[string]any{
				"id":                str(user.ID),
				"displayName":       str(user.DisplayName),
				"userPrincipalName": str(user.UserPrincipalName),
				"ipAddress":         str(user.IPAddress),
			},
		},
		"targetResources":   targets,
		"additionalDetails": details,
	}
}

func str(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolean(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func integer(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringList(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
