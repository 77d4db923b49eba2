package model

import "time"

// RoleStudent is the only backend role allowed to take exams.
const RoleStudent = "STUDENT"

// Learner is the authenticated student as known to the backend.
type Learner struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// LearnerLoginRequest is the payload for learner authentication.
// Credentials are forwarded to the Sentraexam backend and never stored.
type LearnerLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=1,max=128"`
}

// LearnerLoginResponse is returned after a successful login.
type LearnerLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Learner   Learner   `json:"learner"`
}
