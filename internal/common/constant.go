package common

// AccessTokenHeaderName is the gRPC metadata key (and fallback HTTP header)
// used to carry the access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// SystemActorID identifies changes made by the server itself, such as
// scheduled publishing.
const SystemActorID = "system"
