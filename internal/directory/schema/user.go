package schema

// User is a cached user row.
//
// Email is owned by the identity host and is not stored in the cache.
// Token is opaque and unused by the sync logic.
type User struct {
	UID         string `json:"uid" yaml:"uid"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Token       string `json:"-" yaml:"-"`
}

// RemoteUser is one user record of a remote snapshot.
type RemoteUser struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
}

// DisplayName is the first and last name joined by a single space.
func (u RemoteUser) DisplayName() string {
	return u.FirstName + " " + u.LastName
}

// ToUser converts the remote record into its cache row.
func (u RemoteUser) ToUser() User {
	return User{
		UID:         u.Username,
		DisplayName: u.DisplayName(),
	}
}
