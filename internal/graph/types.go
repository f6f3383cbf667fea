package graph

import "encoding/json"

// Resource paths relative to the API base URL.
const (
	ResourceUsers            = "users"
	ResourceSignIns          = "auditLogs/signIns"
	ResourceDirectoryAudits  = "auditLogs/directoryAudits"
	FieldCreatedDateTime     = "createdDateTime"
	FieldActivityDateTime    = "activityDateTime"
	DefaultBaseURL           = "https://graph.microsoft.com/v1.0"
	DefaultScope             = "https://graph.microsoft.com/.default"
	defaultAuthorityTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// UserSelectFields are requested with $select when listing users.
var UserSelectFields = []string{
	"businessPhones", "displayName", "givenName", "jobTitle", "mail",
	"mobilePhone", "officeLocation", "preferredLanguage", "surname",
	"userPrincipalName", "id", "accountEnabled", "userType",
}

type User struct {
	ID                string   `json:"id"`
	DisplayName       *string  `json:"displayName"`
	Mail              *string  `json:"mail"`
	JobTitle          *string  `json:"jobTitle"`
	UserPrincipalName *string  `json:"userPrincipalName"`
	MobilePhone       *string  `json:"mobilePhone"`
	BusinessPhones    []string `json:"businessPhones"`
	GivenName         *string  `json:"givenName"`
	OfficeLocation    *string  `json:"officeLocation"`
	PreferredLanguage *string  `json:"preferredLanguage"`
	Surname           *string  `json:"surname"`
	AccountEnabled    *bool    `json:"accountEnabled"`
	UserType          *string  `json:"userType"`
}

type SignInStatus struct {
	ErrorCode         *int    `json:"errorCode"`
	FailureReason     *string `json:"failureReason"`
	AdditionalDetails *string `json:"additionalDetails"`
}

type SignIn struct {
	ID                      string        `json:"id"`
	CreatedDateTime         string        `json:"createdDateTime"`
	UserDisplayName         *string       `json:"userDisplayName"`
	UserPrincipalName       *string       `json:"userPrincipalName"`
	UserID                  *string       `json:"userId"`
	AppID                   *string       `json:"appId"`
	AppDisplayName          *string       `json:"appDisplayName"`
	IPAddress               *string       `json:"ipAddress"`
	ClientAppUsed           *string       `json:"clientAppUsed"`
	CorrelationID           *string       `json:"correlationId"`
	ConditionalAccessStatus *string       `json:"conditionalAccessStatus"`
	IsInteractive           *bool         `json:"isInteractive"`
	RiskDetail              *string       `json:"riskDetail"`
	RiskLevelAggregated     *string       `json:"riskLevelAggregated"`
	RiskLevelDuringSignIn   *string       `json:"riskLevelDuringSignIn"`
	RiskState               *string       `json:"riskState"`
	ResourceDisplayName     *string       `json:"resourceDisplayName"`
	ResourceID              *string       `json:"resourceId"`
	Status                  *SignInStatus `json:"status"`
}

// UnmarshalJSON accepts created_date_time when createdDateTime is absent.
func (s *SignIn) UnmarshalJSON(data []byte) error {
	type plain SignIn
	var aux struct {
		plain
		CreatedDateTimeAlt string `json:"created_date_time"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = SignIn(aux.plain)
	if s.CreatedDateTime == "" {
		s.CreatedDateTime = aux.CreatedDateTimeAlt
	}
	return nil
}

type AppIdentity struct {
	AppID                *string `json:"appId"`
	DisplayName          *string `json:"displayName"`
	ServicePrincipalID   *string `json:"servicePrincipalId"`
	ServicePrincipalName *string `json:"servicePrincipalName"`
}

type UserIdentity struct {
	ID                *string `json:"id"`
	DisplayName       *string `json:"displayName"`
	UserPrincipalName *string `json:"userPrincipalName"`
	IPAddress         *string `json:"ipAddress"`
}

type AuditActivityInitiator struct {
	App  *AppIdentity  `json:"app"`
	User *UserIdentity `json:"user"`
}

type ModifiedProperty struct {
	DisplayName *string `json:"displayName"`
	OldValue    *string `json:"oldValue"`
	NewValue    *string `json:"newValue"`
}

type TargetResource struct {
	ID                 *string            `json:"id"`
	DisplayName        *string            `json:"displayName"`
	Type               *string            `json:"type"`
	UserPrincipalName  *string            `json:"userPrincipalName"`
	ModifiedProperties []ModifiedProperty `json:"modifiedProperties"`
}

type KeyValue struct {
	Key   *string `json:"key"`
	Value *string `json:"value"`
}

type DirectoryAudit struct {
	ID                  string                  `json:"id"`
	Category            *string                 `json:"category"`
	ActivityDateTime    string                  `json:"activityDateTime"`
	ActivityDisplayName *string                 `json:"activityDisplayName"`
	OperationType       *string                 `json:"operationType"`
	Result              *string                 `json:"result"`
	ResultReason        *string                 `json:"resultReason"`
	LoggedByService     *string                 `json:"loggedByService"`
	CorrelationID       *string                 `json:"correlationId"`
	InitiatedBy         *AuditActivityInitiator `json:"initiatedBy"`
	TargetResources     []TargetResource        `json:"targetResources"`
	AdditionalDetails   []KeyValue              `json:"additionalDetails"`
}

// UnmarshalJSON accepts activity_date_time when activityDateTime is absent.
func (a *DirectoryAudit) UnmarshalJSON(data []byte) error {
	type plain DirectoryAudit
	var aux struct {
		plain
		ActivityDateTimeAlt string `json:"activity_date_time"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = DirectoryAudit(aux.plain)
	if a.ActivityDateTime == "" {
		a.ActivityDateTime = aux.ActivityDateTimeAlt
	}
	return nil
}
