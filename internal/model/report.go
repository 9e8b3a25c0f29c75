package model

import "time"

// Report はゴミ散乱スポットの報告を表す。
type Report struct {
	ID          string
	AuthorID    string
	AuthorName  string
	Description string
	Location    string
	BeforeImage string
	AfterImages []string
	Donations   int
	CreatedAt   time.Time
}

// IsCleaned は清掃後の写真が1枚以上添付されているかどうかを返す。
func (r *Report) IsCleaned() bool {
	return len(r.AfterImages) > 0
}

// Payment は寄付の決済記録を表す。管理画面で読み取り専用に表示する。
type Payment struct {
	ID          string
	DonorName   string
	DonorEmail  string
	ReportOwner string
	ReportTitle string
	AmountCents int64
	Status      string
	CreatedAt   time.Time
}

// DashboardStats は管理画面の集計値を表す。
type DashboardStats struct {
	Users    int
	Reports  int
	Cleanups int
}

// Upload はリモートAPIや画像ホストへ送る画像ファイルを表す。
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}
