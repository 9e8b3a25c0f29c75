package identity

// State はセッションのライフサイクル状態。
//
//	LoggedOut -> Resolving -> LoggedIn
//	LoggedIn  -> LoggedOut（ログアウトまたは解決失敗）
//
// ページを読み込むたびに、保存済みのクレデンシャルがあればResolvingから始まる。
type State string

const (
	StateLoggedOut State = "logged_out"
	StateResolving State = "resolving"
	StateLoggedIn  State = "logged_in"
)
