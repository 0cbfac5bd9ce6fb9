package domain

// Project statuses.
const (
	ProjectPending    = "pending"
	ProjectInProgress = "in-progress"
	ProjectCompleted  = "completed"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskCompleted = "completed"
)

// NotApplicable is the sentinel field value of a task marked N/A.
const NotApplicable = "N/A"

type Project struct {
	ID              string  `json:"id"`
	PropertyID      string  `json:"property_id"`
	OwnerID         string  `json:"owner_id"`
	OwnerName       string  `json:"owner_name"`
	PropertyAddress string  `json:"property_address"`
	Progress        float64 `json:"progress"`
	Status          string  `json:"status" enum:"pending,in-progress,completed"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	PhaseNumber     int     `json:"phase_number"`
	PhaseTitle      string  `json:"phase_title"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	FieldType       string  `json:"field_type" enum:"text,textarea,checkbox,date,file,currency,phone,radio,section_header"`
	FieldValue      string  `json:"field_value"`
	Status          string  `json:"status" enum:"pending,completed"`
	Notes           string  `json:"notes"`
	DueDate         *string `json:"due_date,omitempty" format:"date"`
	OriginalDueDate *string `json:"original_due_date,omitempty" format:"date"`
	FilePath        *string `json:"file_path,omitempty"`
	AssignedToUUID  *string `json:"assigned_to_uuid,omitempty"`
	AssignedRoleID  *string `json:"assigned_role_id,omitempty"`
	Position        int     `json:"position"`
	CompletedDate   *string `json:"completed_date,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// IsNotApplicable reports whether the task carries the N/A override.
func (t Task) IsNotApplicable() bool {
	return t.FieldValue == NotApplicable
}

type TaskTemplate struct {
	PhaseNumber   int     `json:"phase_number"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	FieldType     string  `json:"field_type"`
	Category      string  `json:"category,omitempty"`
	DefaultRoleID *string `json:"default_role_id,omitempty"`
	Position      int     `json:"position"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type RescheduleLog struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	ProjectID       string  `json:"project_id"`
	PreviousDueDate *string `json:"previous_due_date,omitempty" format:"date"`
	BaseDueDate     *string `json:"base_due_date,omitempty" format:"date"`
	NewDueDate      string  `json:"new_due_date" format:"date"`
	Reason          string  `json:"reason"`
	ActorID         string  `json:"actor_id"`
	ActorName       string  `json:"actor_name"`
	DaysDelayed     int     `json:"days_delayed"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
	RoleID         string `json:"role_id,omitempty"`
	Admin          bool   `json:"admin"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Role struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PrimaryUserID string `json:"primary_user_id,omitempty"`
}

type PhaseRole struct {
	PhaseNumber int    `json:"phase_number"`
	RoleID      string `json:"role_id"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
