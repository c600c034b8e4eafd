package model

// Provider 로그인 제공자
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
)

func (p Provider) String() string {
	return string(p)
}

// InviteResponse 초대 응답
type InviteResponse string

const (
	InviteAccepted InviteResponse = "accepted"
	InviteRejected InviteResponse = "rejected"
)

func (r InviteResponse) String() string {
	return string(r)
}

// Valid 허용된 응답인지 확인
func (r InviteResponse) Valid() bool {
	return r == InviteAccepted || r == InviteRejected
}
